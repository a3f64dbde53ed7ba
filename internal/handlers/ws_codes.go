// internal/handlers/ws_codes.go
package handlers

// BadSubprotocolError is the close code sent to clients that did not
// negotiate the live subprotocol.
const BadSubprotocolError = 3000
