// Package dedupe classifies the records of a delimited file as unique, strict
// duplicates or partial duplicates of an earlier record.
//
// The package is independent of any transport or storage layer. Callers hand
// [Run] a [RowReader] and, for actions that produce output, a [SinkOpener].
//
// # Pipeline
//
// A job is a single sequential pass. Encounter order decides which record is
// the first occurrence of a key, so the scan is never parallelized:
//
//  1. [ResolveFields] maps the configured field names to header positions.
//  2. [Classifier.Classify] computes the strict key (SHA-256 over the full
//     row) and, if the record is not a strict duplicate, the partial key
//     (locality|scientificName|recordedBy|eventDate).
//  3. [ActionProcessor.Process] decides what the record contributes to output.
//  4. [Aggregator.Add] updates counts, index pairs and id sets.
//
// # Isolation
//
// Each job owns a [CachePair] created from its isolation key. Nothing is
// shared between jobs, so jobs may run concurrently in one process.
//
// # Errors
//
// Configuration and I/O failures are returned as [*Error] with a code
// (CFG001..CFG007, IO001..IO004, JOB001..JOB003). A failure to write one
// output row is a [RowWriteError]; it becomes a report warning and the scan
// continues.
package dedupe
