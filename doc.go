/*
Package qredit is a client for the Qredit proof-of-stake ledger network. It
keeps a pool of live peers discovered from the configured seed nodes, queries
chain state over the node HTTP API, and builds, signs and broadcasts transfer
transactions.

Broadcasting is a quorum fan-out: a signed transaction is submitted to several
randomly chosen peers at once and the send succeeds when at least one of them
accepts it. Only the parts of the node API needed for transfers and basic
lookups are implemented; consensus and validation stay with the nodes.
*/

package qredit
