// Package aggregation turns resolved fleet collections into view models:
// trailer joins, job-site grouping, KPI rollups, action queue ordering and
// comparison series alignment.
//
// All functions are pure and total. Inputs are never mutated, so collections
// shared between sources can be passed directly. Missing optional fields yield
// nil outputs instead of zeros.
package aggregation
