// Command meterbill serves the billing API and runs rating from the shell.
package main

func main() {
	Execute()
}
