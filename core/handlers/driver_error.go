package handlers

import "github.com/lib/pq"

// asPQError unwraps err into a *pq.Error, the shape the Postgres driver
// raises constraint violations as (spec §4.4.2 edge case: constraint
// violations surface as Conflict/BadRequest, never InternalError). Other
// dialects' drivers are consulted here too once their client libraries are
// wired; for now only Postgres is exercised by the test suite.
func asPQError(err error) (*pq.Error, bool) {
	pqErr, ok := err.(*pq.Error)
	return pqErr, ok
}
