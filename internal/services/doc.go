// Package services defines the shared error taxonomy used by the external
// service clients and the queue drain loop to classify failures.
package services
