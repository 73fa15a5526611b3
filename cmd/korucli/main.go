// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	_ "github.com/devblok/korugfx/backend/headless"
	"github.com/devblok/korugfx/gfx"
)

var (
	backend = flag.String("backend", "", "Backend to query, all registered backends when empty")
	debug   = flag.Bool("debug", false, "Enable backend debug layers")
)

func main() {
	flag.Parse()
	log.SetLevel(log.WarnLevel)

	names := gfx.Backends()
	if *backend != "" {
		names = []string{*backend}
	}

	info := make(map[string][]gfx.PhysicalDeviceInfo, len(names))
	for _, name := range names {
		devices, err := query(name)
		if err != nil {
			log.WithError(err).WithField("backend", name).Error("query failed")
			continue
		}
		info[name] = devices
	}

	bytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Fprintf(os.Stdout, "%s\n", bytes)
}

func query(name string) ([]gfx.PhysicalDeviceInfo, error) {
	device, err := gfx.Open(name, gfx.Config{
		ApplicationName: "korucli",
		Debug:           *debug,
	})
	if err != nil {
		return nil, err
	}
	defer device.Release()

	if err := device.Initialise(); err != nil {
		return nil, err
	}
	return device.DeviceInfo(), nil
}
