// Command tierload-sim drives a tierload scheduler with concurrent random
// loads and reports the order tiers were flushed in.
package main

func main() {
	Execute()
}
