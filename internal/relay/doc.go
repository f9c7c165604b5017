// Package relay splices two established connections together.
//
// Pairs live in an [Arena] and are addressed by [PairID]; the two halves of
// a pair never point at each other, so tearing a pair down is a single
// unlink under the arena lock followed by closing both connections.
//
// Each half has a reader that forwards what it reads to its partner's write
// queue, optionally through an AEAD cipher, and a writer that drains its own
// queue with vectored writes. A reader stops reading while its partner's
// queue is above the high-water mark and resumes once the partner's writer
// drains below the low-water mark. EOF is forwarded as a half-close.
package relay
