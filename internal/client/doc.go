// Package client is the host side of the broker: it activates the broker
// server through the class registry and answers the server's callbacks.
//
// # Overview
//
// Start activates the server class with a bounded retry. Only once the server
// answers a Ping does the client start its own callback service and register
// the callback class, so a failed start never leaves a registration behind.
//
// # Callback Service
//
// The server calls back into the client for two reasons:
//
//   - VisitContact and VisitCalendar hand enumerated rows to the visitor
//     registered under the request's visit token
//   - Inserted, Updated and Deleted carry change notifications, which the
//     Hub fans out to every subscriber
//
// # Errors
//
// Status errors from the server are mapped back to the sentinel errors of
// package mapi, so callers can use errors.Is(err, mapi.ErrNotFound).
//
// # Usage
//
//	c, err := client.New(client.Config{Registry: reg, Signer: signer}, logger)
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	defer c.Stop(ctx)
//	events, _ := c.Hub().Subscribe(ctx)
package client
