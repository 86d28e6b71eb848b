// Package textutil provides the filename text processing used by the name
// based similarity signals.
//
// Names are normalized before comparison: the extension is dropped, accents
// are stripped via Unicode decomposition, case is folded and separator runs
// collapse to a single space. CompareNames then scores two normalized names
// with several independent strategies and reports the best.
//
// Word overlap counts the words of each name, ignoring single runes and bare
// numbers such as copy counters, and takes the cosine of the two counts.
package textutil
