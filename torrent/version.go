package torrent

// Version of the program. Set with "-ldflags -X" while building.
var Version = "0000" // zero means development version
