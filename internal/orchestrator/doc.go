// Package orchestrator drives one validator session against one miner:
// open the session, hand over an ephemeral SSH credential, wait for the
// miner to accept it, run exactly one action, revoke the credential and
// close the session.
//
// Collaborators are consumed through the interfaces in ports.go so the
// state machine can be exercised without a network.
package orchestrator
