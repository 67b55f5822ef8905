// Package sessions defines the Session seen by capability code. A stdio
// server has exactly one session per process; its id is generated when the
// transport starts and the user id comes from the operating system account
// that launched the server.
package sessions
