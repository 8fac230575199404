// Package sio provides a Socket.IO server implementation in Go.
//
// The server multiplexes each websocket connection into named
// namespaces, groups sockets into rooms for targeted broadcasting,
// correlates event acknowledgments, and admits peers through
// per-namespace middleware chains.
//
// # Quick Start
//
//	server := sio.NewServer(nil)
//
//	server.OnConnect(func(socket *sio.Socket) {
//	    log.Printf("Client connected: %s", socket.ID())
//
//	    socket.On("message", func(data ...interface{}) {
//	        socket.Emit("response", "Message received!")
//	    })
//
//	    socket.OnDisconnect(func(reason string) {
//	        log.Printf("Client disconnected: %s", reason)
//	    })
//	})
//
//	http.Handle("/socket.io/", server)
//	http.ListenAndServe(":3000", nil)
//
// # Namespaces
//
// Namespaces provide logical separation of concerns over one shared
// connection. A client must be admitted to the default namespace "/"
// before any other namespace on the same connection is exposed.
//
//	adminNs := server.Of("/admin")
//	adminNs.Use(func(socket *sio.Socket, next func(error)) {
//	    next(authorize(socket.Handshake()))
//	})
//	adminNs.OnConnect(func(socket *sio.Socket) {
//	    // admitted
//	})
//
// # Rooms
//
// Rooms group sockets for targeted broadcasting. Every socket
// automatically joins the room named after its own id.
//
//	socket.Join("room1")
//	server.To("room1").Emit("news", "Hello room!")
//	socket.To("room1").Emit("news", "hello from a peer") // excludes the sender
//	socket.Leave("room1")
//
// # Acknowledgments
//
// Pass a func(...interface{}) as the last Emit argument to request an
// acknowledgment; the reply is routed back to it. Inbound events that
// request an ack carry the reply callback as their last argument.
//
//	socket.Emit("question", "ready?", func(answer ...interface{}) {
//	    log.Printf("client answered: %v", answer)
//	})
//
// # Emission modifiers
//
// Chainable modifiers apply to the next emit only:
//
//	socket.Volatile().Emit("tick")          // drop if the transport is busy
//	socket.Broadcast().Emit("joined", id)   // everyone but the sender
//	server.Of("/").Compress(false).Emit("raw", data)
//
// # Wire format
//
// The default wire format is the socket.io JSON text protocol with
// binary attachments. A MessagePack format is available via
// Config.Parser:
//
//	server := sio.NewServer(&sio.Config{Parser: parser.MsgpackParser{}})
package sio
