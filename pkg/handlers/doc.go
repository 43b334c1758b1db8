// Package handlers provides external object handlers.
//
// An external handler uploads objects from the local fragment cache to some location
// reachable by other engines (a shared directory, an S3 bucket), and downloads them back.
// Handlers are resolved by name from a registry, configured with handler-specific parameters.
package handlers
