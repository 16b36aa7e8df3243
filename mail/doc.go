// Package mail renders the account emails (verification, invites) from
// embedded HTML templates and delivers them over SMTP, or to the log in
// development.
package mail
