// Package worker implements the long-running queue consumer.
//
// Each loop pops one descriptor with a bounded block, hands it to the job
// lifecycle and continues. Malformed payloads are dropped with a log entry;
// queue or store failures back off briefly and retry. Several loops may share
// one queue because each pop is exclusive.
package worker
