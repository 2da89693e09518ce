// mock-portal serves a fake NGBS portal for local development of the adapter.
//
// Point the adapter at it with
//
//	portal:
//	  base_url: http://localhost:8080/
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/botondbotos/ngbs-prometheus-adapter/ngbs/ngbstest"
)

func main() {
	var (
		port     = flag.String("port", "8080", "Port to listen on")
		dataFile = flag.String("data", "", "YAML fixture with account and devices (default: bundled two-device fixture)")
		asArray  = flag.Bool("list-as-array", false, "Return ICONS as an array instead of an object keyed by serial")
	)
	flag.Parse()

	fixture := ngbstest.DefaultFixture()
	if *dataFile != "" {
		var err error
		if fixture, err = ngbstest.LoadFixture(*dataFile); err != nil {
			log.Fatalf("Failed to load fixture: %v", err)
		}
	}

	portal := ngbstest.NewPortal(fixture)
	if *asArray {
		portal.ListAsArray()
	}

	log.Printf("Mock NGBS portal listening on :%s (%d devices, user %q)", *port, len(fixture.Serials), fixture.Username)
	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           portal,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Fatal(srv.ListenAndServe())
}
