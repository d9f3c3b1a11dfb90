// Package alerts evaluates threshold rules against trail status and delivers
// webhook notifications (Slack, Teams or generic HTTP) when a rule fires or
// resolves.
//
// Trails are evaluated after every ingest (Notify) and on a periodic sweep
// (Run), so a sensor that stops reporting still trips offline rules.
package alerts
