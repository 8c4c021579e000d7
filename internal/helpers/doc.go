// Package helpers holds small shared utilities that do not belong to a
// domain package.
package helpers
