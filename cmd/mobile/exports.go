package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"

	"github.com/kimhsiao/capturegallery/internal/models"
)

// result converts a bridge call into a C string, or NULL with the last error set.
func result(s string, err error) *C.char {
	setLastError(err)
	if err != nil {
		return nil
	}
	return C.CString(s)
}

//export GalleryInit
// GalleryInit initializes the gallery. Returns 0 on success, non-zero on error.
func GalleryInit(captureDir *C.char) int32 {
	var dir string
	if captureDir != nil {
		dir = C.GoString(captureDir)
	}
	err := initGallery(dir)
	setLastError(err)
	if err != nil {
		return 1
	}
	return 0
}

//export GalleryShutdown
// GalleryShutdown releases the gallery. Returns 0 on success, non-zero on error.
func GalleryShutdown() int32 {
	err := shutdownGallery()
	setLastError(err)
	if err != nil {
		return 1
	}
	return 0
}

//export GalleryAddPhoto
// GalleryAddPhoto ingests a photo reference. rawMetadata is a JSON object or NULL.
// Returns the item as JSON that must be freed by the caller.
func GalleryAddPhoto(ref, rawMetadata *C.char) *C.char {
	var raw string
	if rawMetadata != nil {
		raw = C.GoString(rawMetadata)
	}
	return result(addPhoto(C.GoString(ref), raw))
}

//export GalleryAddVideo
// GalleryAddVideo ingests a video path and/or inline data; either may be NULL.
// Returns the item as JSON that must be freed by the caller.
func GalleryAddVideo(path, inlineData *C.char) *C.char {
	var p, inline string
	if path != nil {
		p = C.GoString(path)
	}
	if inlineData != nil {
		inline = C.GoString(inlineData)
	}
	return result(addVideo(p, inline))
}

//export GalleryItems
// GalleryItems returns every item, oldest first, as JSON that must be freed by the caller.
func GalleryItems() *C.char {
	return result(listItems(""))
}

//export GalleryPhotos
// GalleryPhotos returns the photo items as JSON that must be freed by the caller.
func GalleryPhotos() *C.char {
	return result(listItems(models.KindPhoto))
}

//export GalleryVideos
// GalleryVideos returns the video items as JSON that must be freed by the caller.
func GalleryVideos() *C.char {
	return result(listItems(models.KindVideo))
}

//export GalleryLastError
// GalleryLastError returns the last error as JSON, or NULL if the last call succeeded.
func GalleryLastError() *C.char {
	msg := lastErrorJSON()
	if msg == "" {
		return nil
	}
	return C.CString(msg)
}

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}
