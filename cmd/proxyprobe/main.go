// Package main provides the entry point for the proxyprobe CLI.
//
// proxyprobe checks large lists of HTTP (or SOCKS5) proxies concurrently and
// keeps the ones that can fetch a target URL.
//
// Usage:
//
//	proxyprobe check proxies.txt
//	cat proxies.txt | proxyprobe check -
//
// See --help for all available options.
package main

func main() {
	Execute()
}
