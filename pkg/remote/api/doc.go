// Package api exposes a metadata store over HTTP, for remotes without direct connectivity
// to the metadata database, and provides the matching client.
//
// Routes:
//
//	GET  /repos/{namespace}/{repository}/images
//	PUT  /repos/{namespace}/{repository}/images/{hash}
//	GET  /repos/{namespace}/{repository}/tags
//	PUT  /repos/{namespace}/{repository}/tags
//	GET  /objects/expand/{id}
//	POST /objects/query
//	PUT  /objects
//
// Payloads are JSON. When the server is configured with a secret, requests must carry
// a bearer token signed with HMAC-SHA256.
package api
