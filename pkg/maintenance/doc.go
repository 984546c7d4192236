// Package maintenance runs periodic housekeeping for the gate, currently
// the purge of expired personal access and deploy tokens.
package maintenance
