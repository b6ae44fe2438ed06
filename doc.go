// Package subnet holds the domain types shared by the validator: the miner
// a session is opened against, the privileged actions that can be dispatched
// once a miner accepts a credential, and the workload results collected from it.
package subnet
