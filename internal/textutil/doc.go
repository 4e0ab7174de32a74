// Package textutil sanitizes user-supplied names before they reach the object
// store or the scratch directory.
package textutil
