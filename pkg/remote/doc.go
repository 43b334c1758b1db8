// Package remote synchronizes repositories between two metadata stores.
//
// The other end of a sync is reached through the Remote contract: either directly
// over another metadata store, or through the HTTP endpoint exposed by package api.
//
// Metadata travels through the Remote. Object data is moved by external handlers:
// objects are uploaded to some shared location on push, and their locations travel
// with their metadata so that the receiving end may download them later.
package remote
