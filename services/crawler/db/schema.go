package db

import _ "embed"

//go:embed schema.sql
var Schema string

type FetchStatus string

const (
	STATUS_FETCHED FetchStatus = "fetched"
	STATUS_CACHED  FetchStatus = "cached"
	STATUS_FAILED  FetchStatus = "failed"
)
