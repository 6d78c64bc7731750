// Package transfer implements the chunked file-transfer protocol on top of
// a session: FILE_START with the sha256 of the whole file, base64 FILE_CHUNK
// slices in ascending index order paced by a rate limiter, then FILE_END.
//
// There are no acknowledgments. A failed transfer returns a *TransferError
// carrying the first unsent chunk index so the caller can Resume it.
package transfer
