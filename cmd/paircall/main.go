// paircall is a headless client for the pairing service: it mints an
// anonymous session, queues for a partner and runs WebRTC calls with
// synthetic media. Useful for smoke-testing a deployment or keeping a
// pool of callable peers online.
package main

func main() {
	Execute()
}
