// Package api exposes the job service over HTTP.
//
// Routes:
//
//	GET  /                        service banner
//	POST /sandbox/run             submit {language, code, timeout} -> {job_id}
//	GET  /sandbox/status/{job_id} status and timestamps
//	GET  /sandbox/result/{job_id} result of a done job, error of a failed one
//	GET  /sandbox/watch/{job_id}  websocket stream of status changes
//	GET  /sandbox/health          {status, store}
//
// When an API key is configured, every route except / and /sandbox/health
// requires it in the X-API-Key header. Errors are returned as {"detail": "..."}.
package api
