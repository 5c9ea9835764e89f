// Package store defines the persistence contracts for personas, products,
// feedback sessions and feedback results. Business code depends on these
// interfaces; the postgres and memory packages implement them.
//
// Work that must be atomic goes through a UnitOfWork, which hands the
// callback a Stores bundle bound to a single transaction.
package store
