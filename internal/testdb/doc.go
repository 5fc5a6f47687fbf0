// Package testdb provides helpers for PostgreSQL integration tests.
//
// Tests run inside a transaction that is rolled back when the test
// finishes, so they can run in parallel against one database:
//
//	func TestTaskStore(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.SetupTestDatabaseSchema(t, db)
//
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        tasks := postgres.NewPostgresTaskStore(tx, nil)
//	        // ...
//	    })
//	}
//
// GetTestDBWithT skips the test when neither DATABASE_URL nor
// RESUMATE_TEST_DB_URL is set.
package testdb
