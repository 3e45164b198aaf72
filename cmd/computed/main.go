// Command computed checks, inspects and runs computed members declared in
// an SDL entity model.
package main

func main() {
	Execute()
}
