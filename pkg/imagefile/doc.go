// Package imagefile manages the raw backing files behind locally stored
// virtual disks. Files are created sparse at the device's declared size
// under a single base directory and named by device ID. The filesystem is
// accessed through afero so the package is fully testable in memory.
package imagefile
