// Package api defines the wire and domain types of the tutor service:
// students, lessons, activities, chat messages, fix attempts and
// performance metrics, the request and response bodies of the HTTP API,
// and the structured error envelope.
//
// The package performs no I/O. Types serialize with snake_case JSON keys.
package api
