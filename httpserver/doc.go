// Package httpserver exposes the analysis engine over a small REST API.
//
// Routes:
//
//	POST /audit          multipart "file" holding a .zip, .tar.gz, .tgz or .tar.zst archive
//	POST /audit/source   JSON {"source_code": "...", "contract_name": "Token"}
//	GET  /health         liveness probe
//
// Input errors map to 422, unsupported uploads to 400, an unavailable
// analyzer to 503 and workspace or execution failures to 500. CORS allows
// any origin without credentials.
package httpserver
