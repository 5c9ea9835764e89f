// Package domain defines personas, products, feedback sessions and their
// results, the status machines that govern them and the aggregation of
// finished results into session insights. It has no knowledge of storage
// or transport.
package domain
