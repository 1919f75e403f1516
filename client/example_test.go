package client_test

import (
	"context"
	"fmt"
	"log"

	"github.com/frobware/go-bfrt/client"
	"github.com/frobware/go-bfrt/entryfmt"
)

func ExampleDial() {
	c, err := client.Dial(client.DefaultSocketPath())
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	entries, err := c.ListEntries(context.Background(), client.Table("fwd"))
	if err != nil {
		log.Fatal(err)
	}

	for _, e := range entries {
		fmt.Printf("%s -> %s\n", entryfmt.Join(e.Key), entryfmt.Join(e.Data))
	}
}

func ExampleClient_AddEntry() {
	c, err := client.Open(client.WithProgram("/etc/bfrt/switch.p4info.txt"))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	key, _ := entryfmt.ParseItems("hdr.ipv4.dst_addr=10.0.0.1")
	data, _ := entryfmt.ParseItems("action=set_port", "port=3")
	h, err := c.AddEntry(context.Background(), client.Table("fwd"), key, data)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("installed entry %d\n", h)
}
