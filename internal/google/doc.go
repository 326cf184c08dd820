// Package google holds the Google OAuth plumbing shared by the hosts.
//
// It builds the oauth2 configuration from the configured client
// credentials, stores CLI tokens on disk per account, runs the installed-app
// login flow with a loopback callback, and looks up the signed-in user's
// email address.
package google
