// Package clocksync negotiates a shared clock between two peers.
//
// One side of a PeerLink is the master, the other the slave; the transport
// decides which. Once connected, the slave runs a short beacon exchange to
// estimate one-way latency and the offset between the two host clocks.
// Start and Stop commands minted in the master's clock domain are then
// translated into the slave's domain and handed to an Observer.
//
//	engine := clocksync.NewEngine(clocksync.DefaultConfig(), hosttime.Real(), transport, observer)
//	engine.SearchPeer(ctx)
//	...
//	local := engine.EstimatedLocalHostTime(remote)
package clocksync
