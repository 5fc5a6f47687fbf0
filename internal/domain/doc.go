// Package domain contains the core business entities of the service:
// background task records and their status order, stored CVs and the
// structured CV document produced by generation jobs.
package domain
