// Package store declares the product run repository used to report the
// status of submitted product requests. Implementations live under
// internal/storage and must not be imported from here.
package store
