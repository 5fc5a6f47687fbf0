// Package postgres implements the store interfaces on PostgreSQL through
// database/sql and the pgx stdlib driver, and embeds the goose migrations
// that create background_tasks, cvs and the usage tables.
//
// Every store accepts a store.DBTX, so WithTx rebinds it to a transaction
// opened by store.RunInTransaction.
package postgres
