// Package util provides small string helpers shared across the library.
package util
