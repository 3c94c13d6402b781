// Package main writes a local CA and a server certificate for running the
// stripekeeper server with TLS.
//
//	certgen -dir certs -hosts localhost,127.0.0.1
//	server -tls-cert certs/server.crt -tls-key certs/server.key
//	client --url https://localhost:8080 --ca certs/ca.crt get svc user
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/atinyakov/stripekeeper/internal/certgen"
)

func main() {
	dir := flag.String("dir", "certs", "output directory")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	validFor := flag.Duration("valid-for", 365*24*time.Hour, "certificate lifetime")
	flag.Parse()

	files, err := certgen.Generate(*dir, splitHosts(*hosts), *validFor)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("CA certificate:     %s\nServer certificate: %s\nServer key:         %s\n",
		files.CACert, files.ServerCert, files.ServerKey)
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
