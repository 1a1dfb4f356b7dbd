// hubexport exports AWS Security Hub findings as a CSV report delivered by email.
package main

func main() {
	Execute()
}
