// Package cli provides the interactive AuthKeeper command-line client.
//
// Commands: register, login, refresh, logout, whoami, sweep, help, exit.
// Tokens live only in memory for the lifetime of the process.
package cli
