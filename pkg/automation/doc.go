// Package automation runs user-defined rules against groups.
//
// A ruleset is a versioned list of rules; updates are compare-and-set
// on the version. Triggers are recurring intervals, cron expressions,
// or one-shot timestamps; actions post messages, change group state, or
// control actors. One-shot rules disable themselves after firing.
// Within a tick, rules fire in id order, after the delivery engine's
// built-in policies have run.
package automation
