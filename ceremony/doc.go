// Package ceremony holds the ceremony document and the pure rules that govern
// it: which participant may lock a chunk, who may release it, and how a new
// contribution or verification is checked against the hash chain before it is
// appended to a chunk's history.
//
// Nothing in this package performs I/O. Callers read a document from a store,
// apply one of the operations below to their private copy and write the result
// back with a versioned compare-and-swap.
package ceremony
