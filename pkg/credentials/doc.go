// Package credentials extracts the secret a request presents and the scheme
// it was presented under. It performs no lookups: turning a Credential into a
// principal is the job of pkg/auth.
//
// Recognised sources, in header order:
//
//	Private-Token: <pat>
//	Job-Token: <job token>
//	Deploy-Token: <deploy token>
//	Authorization: Bearer <pat>
//	Authorization: Basic base64(<username>:<password>)
//
// The query parameters private_token and job_token are consulted only when
// no header supplies a secret. A Basic username equal to the reserved CI
// username routes the password as a job token; any other username routes it
// as a personal access token, then as a deploy token owned by that username.
//
// Missing, empty and truncated values resolve to no credential. Secrets
// presented under two different schemes in one request are malformed.
package credentials
