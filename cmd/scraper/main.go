// Command scraper downloads crash assets from the syzbot dashboard.
package main

func main() {
	Execute()
}
