// Package application wires the experiment record, storage, HTTP handlers and
// server together, and renders records for the command line. It keeps the
// main package focused on flag parsing and orchestration.
package application
